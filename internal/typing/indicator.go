package typing

// Indicator is the receiving side: who is typing in the open conversation.
// It belongs to the client's event loop and is not safe for concurrent use.
//
// Without a server TTL a lost stop event would leave a user marked typing
// until the conversation is switched.
type Indicator struct {
	self           int64
	conversationID int64
	users          []int64
}

func NewIndicator(self int64) *Indicator {
	return &Indicator{self: self}
}

// Open switches to conversationID and forgets every typist.
func (i *Indicator) Open(conversationID int64) {
	i.conversationID = conversationID
	i.users = nil
}

func (i *Indicator) Clear() {
	i.users = nil
}

func (i *Indicator) Start(conversationID, userID int64) bool {
	if conversationID != i.conversationID || userID == i.self {
		return false
	}
	for _, u := range i.users {
		if u == userID {
			return false
		}
	}
	i.users = append(i.users, userID)
	return true
}

func (i *Indicator) Stop(conversationID, userID int64) bool {
	if conversationID != i.conversationID {
		return false
	}
	for n, u := range i.users {
		if u == userID {
			i.users = append(i.users[:n], i.users[n+1:]...)
			return true
		}
	}
	return false
}

func (i *Indicator) Typing() []int64 {
	out := make([]int64, len(i.users))
	copy(out, i.users)
	return out
}
