package heap

// The account data header reserves two fields for a return-value channel: the
// payload of the last call can be parked inside the buffer and read back by the
// next invocation. The payload is stored through the heap itself, so the channel
// is orthogonal to the allocator invariants.

// SetReturnData stores payload in the buffer's return-data channel, resizing the
// backing allocation as needed. An empty payload clears the channel and releases
// the backing allocation.
func (h *Heap) SetReturnData(data []byte, payload []byte) error {
	_, err := h.ensure(data)
	if err != nil {
		return err
	}

	oldOffset := headerField(data, returnDataOffsetField)

	newOffset, err := h.Realloc(data, oldOffset, uint32(len(payload)))
	if err != nil {
		return err
	}

	copy(data[newOffset:newOffset+uint32(len(payload))], payload)

	setHeaderField(data, returnDataOffsetField, newOffset)
	setHeaderField(data, returnDataLenField, uint32(len(payload)))

	return nil
}

// ReturnData returns a copy of the buffer's return-data channel, or nil when the
// channel is empty or the buffer has never been bootstrapped.
func (h *Heap) ReturnData(data []byte) []byte {
	if uint32(len(data)) < HeaderSize || headerField(data, magicField) != h.magic {
		return nil
	}

	length := headerField(data, returnDataLenField)
	if length == 0 {
		return nil
	}

	offset := headerField(data, returnDataOffsetField)
	if offset+length > uint32(len(data)) {
		return nil
	}

	out := make([]byte, length)
	copy(out, data[offset:offset+length])

	return out
}

// ClearReturnData empties the return-data channel and releases its backing
// allocation.
func (h *Heap) ClearReturnData(data []byte) error {
	return h.SetReturnData(data, nil)
}
