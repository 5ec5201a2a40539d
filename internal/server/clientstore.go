package server

// clientStore is a slot table of connected clients indexed by id-1.
type clientStore struct {
	slots      []*Client
	lastSerial uint32
}

func (s *clientStore) nextSerial() uint32 {
	s.lastSerial++
	if s.lastSerial == 0 {
		s.lastSerial = 1
	}
	return s.lastSerial
}

// insert builds a client in the lowest free slot.
func (s *clientStore) insert(build func(ClientID) *Client) *Client {
	idx := -1
	for i, c := range s.slots {
		if c == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.slots = append(s.slots, nil)
		idx = len(s.slots) - 1
	}
	id := ClientID{id: uint32(idx) + 1, serial: s.nextSerial()}
	c := build(id)
	s.slots[idx] = c
	return c
}

func (s *clientStore) get(id ClientID) (*Client, error) {
	if id.id == 0 || int(id.id) > len(s.slots) {
		return nil, InvalidIDError{What: "client", ID: id.id}
	}
	c := s.slots[id.id-1]
	if c == nil || c.id != id {
		return nil, InvalidIDError{What: "client", ID: id.id}
	}
	return c, nil
}

func (s *clientStore) remove(id ClientID) {
	if id.id == 0 || int(id.id) > len(s.slots) {
		return
	}
	if c := s.slots[id.id-1]; c != nil && c.id == id {
		s.slots[id.id-1] = nil
	}
	for len(s.slots) > 0 && s.slots[len(s.slots)-1] == nil {
		s.slots = s.slots[:len(s.slots)-1]
	}
}

// each visits clients in slot order until fn returns false.
func (s *clientStore) each(fn func(*Client) bool) {
	for _, c := range s.slots {
		if c == nil {
			continue
		}
		if !fn(c) {
			return
		}
	}
}

func (s *clientStore) len() int {
	n := 0
	for _, c := range s.slots {
		if c != nil {
			n++
		}
	}
	return n
}
