package openrouter

import (
	"fmt"
	"time"

	"github.com/Thainyx11/GameMaster/internal/models"
)

// PromptMessage is one role/content pair sent upstream. Auxiliary message
// fields (timestamps, image paths) never leave the process.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reasoning delimiter markers. The thinking instruction asks the model to
// emit its reasoning between these, and the relay wraps reasoning deltas in
// them so the persisted transcript keeps the distinction inline.
const (
	ReasoningStartMarker = "<thinking>"
	ReasoningEndMarker   = "</thinking>"
)

const personaTemplate = `🎲 You are GameMaster, an expert and passionate tabletop Game Master.

PERSONALITY:
- You are an immersive narrator who builds captivating atmospheres
- You use rich vocabulary and evocative descriptions
- You adapt to the player's preferred style (heroic fantasy, horror, sci-fi, etc.)
- You are fair in your rulings but always favor fun
- You use themed emojis sparingly (🎲⚔️🛡️🗡️🏰🐉✨)

ABILITIES:
- Crafting bespoke quests and scenarios
- Generating memorable NPCs with distinct personalities
- Describing places, atmospheres and situations
- Running combat and resolving conflicts

RULES:
- When the player attempts something risky, suggest an appropriate dice roll
- Use **text** formatting for important elements
- Always offer the player 2-3 options to move the story forward

Current date: %s`

const thinkingInstruction = "Before answering, reason through the scene step by step. " +
	"Write that reasoning between the literal markers " + ReasoningStartMarker +
	" and " + ReasoningEndMarker + ", then give your final answer after the closing marker."

// BuildPrompt assembles the ordered message list for one turn: the system
// persona (with the current date and the player's custom instructions), the
// optional thinking instruction, then the full history reduced to role and
// content. Pure: same inputs always yield the same prompt, and nothing is
// mutated.
func BuildPrompt(history []models.Message, instructions string, thinkingEnabled bool, now time.Time) []PromptMessage {
	system := fmt.Sprintf(personaTemplate, now.Format("Monday, January 2, 2006"))
	if instructions != "" {
		// Untrusted free text, forwarded as-is.
		system += "\n\nPLAYER INSTRUCTIONS:\n" + instructions
	}

	prompt := make([]PromptMessage, 0, len(history)+2)
	prompt = append(prompt, PromptMessage{Role: models.RoleSystem, Content: system})

	if thinkingEnabled {
		prompt = append(prompt, PromptMessage{Role: models.RoleSystem, Content: thinkingInstruction})
	}

	for _, msg := range history {
		prompt = append(prompt, PromptMessage{Role: msg.Role, Content: msg.Content})
	}

	return prompt
}
