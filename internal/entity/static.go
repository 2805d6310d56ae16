package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Seed is the on-disk shape loaded by LoadSeedFile.
type Seed struct {
	Characters []Character `json:"characters"`
	Campaigns  []Campaign  `json:"campaigns"`
	Worlds     []World     `json:"worlds"`
}

// StaticDirectory serves entities from memory. Records with an OwnerID are
// only visible to that actor; records without one are shared.
type StaticDirectory struct {
	mu         sync.RWMutex
	characters map[string]Character
	campaigns  map[string]Campaign
	worlds     map[string]World
}

func NewStaticDirectory(seed Seed) *StaticDirectory {
	d := &StaticDirectory{
		characters: make(map[string]Character),
		campaigns:  make(map[string]Campaign),
		worlds:     make(map[string]World),
	}
	for _, c := range seed.Characters {
		d.characters[c.ID] = c
	}
	for _, c := range seed.Campaigns {
		d.campaigns[c.ID] = c
	}
	for _, w := range seed.Worlds {
		d.worlds[w.ID] = w
	}
	return d
}

// LoadSeedFile reads a JSON Seed from path.
func LoadSeedFile(path string) (*StaticDirectory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("decode entity seed: %w", err)
	}
	return NewStaticDirectory(seed), nil
}

// PutCharacter inserts or replaces a character.
func (d *StaticDirectory) PutCharacter(c Character) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.characters[c.ID] = c
}

// PutCampaign inserts or replaces a campaign.
func (d *StaticDirectory) PutCampaign(c Campaign) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.campaigns[c.ID] = c
}

func (d *StaticDirectory) Character(_ context.Context, actor Actor, id string) (Character, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.characters[id]
	if !ok {
		return Character{}, fmt.Errorf("character %q: %w", id, ErrNotFound)
	}
	if !visible(c.OwnerID, actor) {
		return Character{}, fmt.Errorf("character %q: %w", id, ErrUnauthorized)
	}
	return c, nil
}

func (d *StaticDirectory) Campaign(_ context.Context, actor Actor, id string) (Campaign, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.campaigns[id]
	if !ok {
		return Campaign{}, fmt.Errorf("campaign %q: %w", id, ErrNotFound)
	}
	if !visible(c.OwnerID, actor) {
		return Campaign{}, fmt.Errorf("campaign %q: %w", id, ErrUnauthorized)
	}
	return c, nil
}

func (d *StaticDirectory) Characters(_ context.Context, actor Actor, worldID string) ([]Character, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Character, 0, len(d.characters))
	for _, c := range d.characters {
		if !visible(c.OwnerID, actor) {
			continue
		}
		if worldID != "" && c.WorldID != worldID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *StaticDirectory) World(_ context.Context, actor Actor, id string) (World, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.worlds[id]
	if !ok {
		return World{}, fmt.Errorf("world %q: %w", id, ErrNotFound)
	}
	if !visible(w.OwnerID, actor) {
		return World{}, fmt.Errorf("world %q: %w", id, ErrUnauthorized)
	}
	return w, nil
}

func visible(ownerID string, actor Actor) bool {
	return ownerID == "" || ownerID == actor.ID
}
