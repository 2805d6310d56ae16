// Package prompt assembles the bounded system prompt sent to completion
// backends.
package prompt

import (
	"strings"

	"github.com/ent0n29/taleweaver/internal/campaign"
	"github.com/ent0n29/taleweaver/internal/conversation"
	"github.com/ent0n29/taleweaver/internal/entity"
	"github.com/ent0n29/taleweaver/internal/policy"
)

// MaxHistory is the hard cap on conversation turns included in a prompt.
// Older turns are dropped.
const MaxHistory = 5

const defaultUserSpeaker = "User"

const gmDirective = "You are the Game Master of this story. Narrate the scene, describe the consequences of the characters' actions " +
	"and the world's reaction, and introduce complications that move the plot forward. Do not speak for the player characters."

// Options carries everything besides the character and history.
type Options struct {
	IsGameMaster bool
	GMPrompt     string
	// Memories is the pre-rendered recall block, one line per memory.
	Memories string
	Campaign *campaign.Context
	World    *entity.World
	RPMode   policy.Mode
	// MaxHistory <= 0 or above MaxHistory means MaxHistory.
	MaxHistory  int
	SpeakerName string
	UserInput   string
}

// Assemble builds the prompt in a fixed order: identity (or GM directive)
// with memories, campaign or chat setting, content policy, recent turns, the
// new input and a trailing "<Name>:" cue.
func Assemble(character entity.Character, history []conversation.Message, opts Options) string {
	var b strings.Builder
	name := strings.TrimSpace(character.Name)
	if opts.IsGameMaster {
		name = conversation.GameMasterSpeaker
	}

	if opts.IsGameMaster {
		writeGameMaster(&b, opts.GMPrompt)
	} else {
		writeIdentity(&b, character)
	}
	if mem := strings.TrimSpace(opts.Memories); mem != "" {
		b.WriteString("\nThings you remember:\n")
		b.WriteString(mem)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if opts.Campaign != nil {
		writeCampaign(&b, *opts.Campaign)
	} else {
		writeChatSetting(&b, name, opts.World)
	}

	b.WriteString("\n")
	b.WriteString(policy.Directive(opts.RPMode))
	b.WriteString("\n")

	window := opts.MaxHistory
	if window <= 0 || window > MaxHistory {
		window = MaxHistory
	}
	if recent := conversation.Window(history, window); len(recent) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, m := range recent {
			b.WriteString(speakerOf(m))
			b.WriteString(": ")
			b.WriteString(strings.TrimSpace(m.Text))
			b.WriteString("\n")
		}
	}

	if input := strings.TrimSpace(opts.UserInput); input != "" {
		speaker := strings.TrimSpace(opts.SpeakerName)
		if speaker == "" {
			speaker = defaultUserSpeaker
		}
		b.WriteString("\n")
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(input)
		b.WriteString("\n")
	}

	b.WriteString(name)
	b.WriteString(":")
	return b.String()
}

func writeIdentity(b *strings.Builder, c entity.Character) {
	b.WriteString("You are ")
	b.WriteString(strings.TrimSpace(c.Name))
	b.WriteString(". Stay in character and reply only as ")
	b.WriteString(strings.TrimSpace(c.Name))
	b.WriteString(".\n")
	field(b, "Personality", c.Personality)
	field(b, "Traits", c.Traits)
	field(b, "Background", c.Background)
	field(b, "Appearance", c.Appearance)
	if len(c.Relationships) > 0 {
		b.WriteString("Relationships:\n")
		for _, r := range c.Relationships {
			b.WriteString("- ")
			b.WriteString(r.Name)
			if rel := strings.TrimSpace(r.Relationship); rel != "" {
				b.WriteString(": ")
				b.WriteString(rel)
			}
			b.WriteString("\n")
		}
	}
}

func writeGameMaster(b *strings.Builder, custom string) {
	b.WriteString(gmDirective)
	b.WriteString("\n")
	if custom = strings.TrimSpace(custom); custom != "" {
		b.WriteString("Additional Game Master instructions: ")
		b.WriteString(custom)
		b.WriteString("\n")
	}
}

func writeCampaign(b *strings.Builder, c campaign.Context) {
	b.WriteString("Campaign: ")
	b.WriteString(c.Name)
	b.WriteString("\n")
	field(b, "Description", c.Description)
	if c.CurrentScene != nil {
		scene := c.CurrentScene.Title
		if d := strings.TrimSpace(c.CurrentScene.Description); d != "" {
			scene += " - " + d
		}
		field(b, "Current scene", scene)
	}
	if len(c.Participants) > 0 {
		names := make([]string, 0, len(c.Participants))
		for _, p := range c.Participants {
			names = append(names, p.Name)
		}
		field(b, "Present", strings.Join(names, ", "))
	}
	if mem := strings.TrimSpace(c.ImportantMemories); mem != "" {
		b.WriteString("Important campaign memories:\n")
		b.WriteString(mem)
		b.WriteString("\n")
	}
}

// Casual chats deliberately avoid full world lore so the model does not slip
// into world-specific roleplay.
func writeChatSetting(b *strings.Builder, name string, world *entity.World) {
	b.WriteString("This is a casual one-on-one chat taking place outside your native setting")
	if world != nil && strings.TrimSpace(world.Name) != "" {
		b.WriteString(" of ")
		b.WriteString(strings.TrimSpace(world.Name))
	}
	b.WriteString(". Keep ")
	b.WriteString(name)
	b.WriteString("'s voice and personality, but do not narrate quests or world events unless asked.\n")
}

func field(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}

func speakerOf(m conversation.Message) string {
	if s := strings.TrimSpace(m.Speaker); s != "" {
		return s
	}
	if m.Sender == conversation.SenderUser {
		return defaultUserSpeaker
	}
	return string(m.Sender)
}
