package campaign

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ent0n29/taleweaver/internal/entity"
	"github.com/ent0n29/taleweaver/internal/memory"
	"github.com/ent0n29/taleweaver/internal/recall"
)

const (
	maxCampaignMemories   = 8
	maxGeneralMemories    = 3
	perParticipantHighest = 2
	maxImportantMemories  = 5
)

// Participant is a campaign member as shown in the prompt.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Context is the campaign state handed to the prompt assembler.
type Context struct {
	CampaignID        string        `json:"campaignId"`
	Name              string        `json:"name"`
	Description       string        `json:"description,omitempty"`
	CurrentScene      *entity.Scene `json:"currentScene,omitempty"`
	Participants      []Participant `json:"participants,omitempty"`
	ImportantMemories string        `json:"importantMemories,omitempty"`
}

// NewContext builds the static part of a campaign context.
func NewContext(c entity.Campaign, participants []entity.Character) Context {
	out := Context{
		CampaignID:  c.ID,
		Name:        c.Name,
		Description: c.Description,
	}
	if scene, ok := c.CurrentScene(); ok {
		out.CurrentScene = &scene
	}
	for _, p := range participants {
		out.Participants = append(out.Participants, Participant{ID: p.ID, Name: p.Name})
	}
	return out
}

// Enricher reads campaign-scoped memories. It never writes to the store.
type Enricher struct {
	retriever *recall.Retriever
	now       func() time.Time
}

func NewEnricher(r *recall.Retriever) *Enricher {
	return &Enricher{retriever: r, now: time.Now}
}

// Memories renders what a character recalls inside one campaign: up to 8
// memories tagged for it, then up to 3 untagged general memories, both ranked
// against queryContext. Memories tagged for other campaigns are left out.
// Returns "" when nothing qualifies.
func (e *Enricher) Memories(ctx context.Context, characterID, campaignID, queryContext string) string {
	ranked := e.retriever.Retrieve(ctx, characterID, queryContext, 0, 0)
	if len(ranked) == 0 {
		return ""
	}
	now := e.now()
	var scoped, general []string
	for _, it := range ranked {
		switch {
		case IsTagged(it.Content, campaignID):
			if len(scoped) < maxCampaignMemories {
				scoped = append(scoped, recall.FormatLine(it.Record, Strip(it.Content, campaignID), now))
			}
		case !IsScoped(it.Content):
			if len(general) < maxGeneralMemories {
				general = append(general, recall.FormatLine(it.Record, it.Content, now))
			}
		}
	}
	return strings.Join(append(scoped, general...), "\n")
}

// Enrich fills ImportantMemories with the campaign's most important
// memories: the top two per participant by importance, pooled and cut to
// five overall.
func (e *Enricher) Enrich(ctx context.Context, c Context) Context {
	type pooled struct {
		speaker string
		rec     memory.Record
	}
	var pool []pooled
	for _, p := range c.Participants {
		var tagged []memory.Record
		for _, rec := range e.retriever.Records(ctx, p.ID) {
			if IsTagged(rec.Content, c.CampaignID) {
				tagged = append(tagged, rec)
			}
		}
		sort.SliceStable(tagged, func(i, j int) bool { return tagged[i].Importance > tagged[j].Importance })
		if len(tagged) > perParticipantHighest {
			tagged = tagged[:perParticipantHighest]
		}
		for _, rec := range tagged {
			pool = append(pool, pooled{speaker: p.Name, rec: rec})
		}
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].rec.Importance > pool[j].rec.Importance })
	if len(pool) > maxImportantMemories {
		pool = pool[:maxImportantMemories]
	}

	lines := make([]string, 0, len(pool))
	for _, p := range pool {
		lines = append(lines, "- "+p.speaker+": "+Strip(p.rec.Content, c.CampaignID))
	}
	c.ImportantMemories = strings.Join(lines, "\n")
	return c
}
