package models

// Reaction is an emoji together with the users who applied it
type Reaction struct {
	Emoji string   `json:"emoji"`
	Users []string `json:"users"`
}

// ToggleReaction flips userID's membership in the emoji entry and returns
// the resulting array. The input slice is not modified.
//
// No entry for the emoji: one is appended with userID as sole member.
// userID is a member: it is removed, and the entry is dropped if empty.
// userID is not a member: it is appended to the entry.
func ToggleReaction(reactions []Reaction, emoji, userID string) []Reaction {
	out := make([]Reaction, 0, len(reactions)+1)
	found := false

	for _, r := range reactions {
		if r.Emoji != emoji || found {
			out = append(out, r)
			continue
		}
		found = true

		users := make([]string, 0, len(r.Users)+1)
		member := false
		for _, id := range r.Users {
			if id == userID {
				member = true
				continue
			}
			users = append(users, id)
		}
		if !member {
			users = append(users, userID)
		}
		if len(users) == 0 {
			continue
		}
		out = append(out, Reaction{Emoji: emoji, Users: users})
	}

	if !found {
		out = append(out, Reaction{Emoji: emoji, Users: []string{userID}})
	}
	return out
}

// HasReacted reports whether userID is a member of the emoji entry
func HasReacted(reactions []Reaction, emoji, userID string) bool {
	for _, r := range reactions {
		if r.Emoji != emoji {
			continue
		}
		for _, id := range r.Users {
			if id == userID {
				return true
			}
		}
	}
	return false
}
