package conversations

import (
	"strings"

	"chat-sync/internal/models"
)

// Naming controls how conversations without an explicit name are labelled.
type Naming struct {
	MaxMembers  int
	Budget      int
	Placeholder string
}

// DefaultNaming lists up to five members within thirty characters.
func DefaultNaming() Naming {
	return Naming{MaxMembers: 5, Budget: 30, Placeholder: "Unnamed Chat"}
}

// DisplayName resolves the label of conv given the other members, in join order.
func (n Naming) DisplayName(conv models.Conversation, others []models.Member) string {
	if conv.IsGroup {
		if name := strings.TrimSpace(conv.Name); name != "" {
			return name
		}
		names := make([]string, 0, n.MaxMembers)
		for _, m := range others {
			if len(names) == n.MaxMembers {
				break
			}
			if m.Name != "" {
				names = append(names, m.Name)
			}
		}
		if len(names) == 0 {
			return n.Placeholder
		}
		return truncate(strings.Join(names, ", "), n.Budget)
	}

	if len(others) > 0 && others[0].Name != "" {
		return others[0].Name
	}
	if name := strings.TrimSpace(conv.Name); name != "" {
		return name
	}
	return n.Placeholder
}

func truncate(s string, budget int) string {
	runes := []rune(s)
	if budget <= 0 || len(runes) <= budget {
		return s
	}
	if budget <= 3 {
		return string(runes[:budget])
	}
	return string(runes[:budget-3]) + "..."
}
