package reactions

import (
	"sort"

	"github.com/thereayou/roomchat/internal/models"
)

// Entry is one user's reaction as rendered next to a message.
type Entry struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// Group is every reaction with the same emoji on one message.
type Group struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Unpack flattens the reaction map into a list ordered by user id, so the
// same map always renders the same way.
func Unpack(r models.Reactions) []Entry {
	out := make([]Entry, 0, len(r))
	for userID, emoji := range r {
		out = append(out, Entry{UserID: userID, Emoji: emoji})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// GroupByEmoji counts reactions per emoji, most used first, ties by emoji.
func GroupByEmoji(r models.Reactions) []Group {
	byEmoji := make(map[string]*Group)
	for _, e := range Unpack(r) {
		g, ok := byEmoji[e.Emoji]
		if !ok {
			g = &Group{Emoji: e.Emoji}
			byEmoji[e.Emoji] = g
		}
		g.Count++
		g.Users = append(g.Users, e.UserID)
	}

	out := make([]Group, 0, len(byEmoji))
	for _, g := range byEmoji {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Emoji < out[j].Emoji
	})
	return out
}
