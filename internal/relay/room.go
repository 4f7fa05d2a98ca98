package relay

// MaxPeers is the number of peers a room holds.
const MaxPeers = 2

// Room is a namespace that unites at most two peers.
type Room struct {
	ID string

	// members in join order
	members []*Client
}

func (r *Room) full() bool {
	return len(r.members) >= MaxPeers
}

func (r *Room) add(c *Client) {
	r.members = append(r.members, c)
}

func (r *Room) remove(c *Client) bool {
	for i, m := range r.members {
		if m == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) find(peerID string) *Client {
	for _, m := range r.members {
		if m.ID == peerID {
			return m
		}
	}
	return nil
}

// others returns the ids of every member except c.
func (r *Room) others(c *Client) []string {
	ids := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if m != c {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
