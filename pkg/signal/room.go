package signal

import (
	"fmt"
	"math/rand"
	"strings"
	"unicode"
)

// DefaultRoom is the room a broadcaster joins when none is configured
const DefaultRoom = "UNITY-1"

var adjectives = []string{
	"QUICK", "CALM", "BRAVE", "BRIGHT", "COOL",
	"EAGER", "GRAND", "GREEN", "BLUE", "GOLD",
	"SILVER", "WARM", "BOLD", "CLEAR", "SHARP",
}

var nouns = []string{
	"ARM", "LIFT", "GEAR", "BELT", "CRANE",
	"DRIVE", "FORGE", "JOINT", "RAIL", "SHAFT",
	"SLIDE", "TOWER", "VALVE", "WHEEL", "WINCH",
}

// GenerateRoomID creates a memorable room id in ADJECTIVE-NOUN-NN format
func GenerateRoomID() string {
	adj := adjectives[rand.Intn(len(adjectives))]
	noun := nouns[rand.Intn(len(nouns))]
	return fmt.Sprintf("%s-%s-%02d", adj, noun, rand.Intn(100))
}

// NormalizeRoomID ensures consistent formatting (uppercase, trimmed)
func NormalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ValidateRoomID checks that a normalized room id is usable in a URL query
func ValidateRoomID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
