// Package entity defines the read-only views of characters, campaigns and
// worlds that the roleplay core consumes from the entity-management system.
package entity

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound reports an unknown entity id.
	ErrNotFound = errors.New("entity not found")
	// ErrUnauthorized reports that the actor may not read the entity. It is
	// surfaced to callers verbatim and never retried.
	ErrUnauthorized = errors.New("not authorized")
)

// Actor identifies who is driving a request. It is passed explicitly through
// every call instead of being read from ambient state.
type Actor struct {
	ID string `json:"id"`
}

// Relationship links a character to someone else by name.
type Relationship struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
}

// Character is the profile a character speaks from.
type Character struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"ownerId,omitempty"`
	Name          string         `json:"name"`
	Personality   string         `json:"personality,omitempty"`
	Traits        string         `json:"traits,omitempty"`
	Background    string         `json:"background,omitempty"`
	Appearance    string         `json:"appearance,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
	WorldID       string         `json:"worldId,omitempty"`
}

// GMType tells who runs the game master role of a campaign.
type GMType string

const (
	GMTypeUser GMType = "USER"
	GMTypeAI   GMType = "AI"
)

// Scene is one step of a campaign's storyline.
type Scene struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Campaign is a multi-character session definition.
type Campaign struct {
	ID                string   `json:"id"`
	OwnerID           string   `json:"ownerId,omitempty"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	ParticipantIDs    []string `json:"participantIds"`
	Scenes            []Scene  `json:"scenes,omitempty"`
	CurrentSceneIndex int      `json:"currentSceneIndex"`
	GMType            GMType   `json:"gmType"`
	WorldID           string   `json:"worldId,omitempty"`
}

// CurrentScene returns the active scene, if the index points at one.
func (c Campaign) CurrentScene() (Scene, bool) {
	if c.CurrentSceneIndex < 0 || c.CurrentSceneIndex >= len(c.Scenes) {
		return Scene{}, false
	}
	return c.Scenes[c.CurrentSceneIndex], true
}

// AIGameMaster reports whether the campaign's GM is AI-controlled.
func (c Campaign) AIGameMaster() bool {
	return strings.EqualFold(string(c.GMType), string(GMTypeAI))
}

// World is the setting characters and campaigns live in.
type World struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Directory is the entity-management collaborator. Implementations return
// ErrNotFound or ErrUnauthorized (possibly wrapped).
type Directory interface {
	Character(ctx context.Context, actor Actor, id string) (Character, error)
	Campaign(ctx context.Context, actor Actor, id string) (Campaign, error)
	// Characters lists characters, filtered by world when worldID is set.
	Characters(ctx context.Context, actor Actor, worldID string) ([]Character, error)
	World(ctx context.Context, actor Actor, id string) (World, error)
}
