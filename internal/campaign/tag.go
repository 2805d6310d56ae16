// Package campaign scopes memories to campaigns and builds the campaign
// context block shown to responders.
package campaign

import (
	"regexp"
	"strings"

	"github.com/ent0n29/taleweaver/internal/memory"
	"github.com/ent0n29/taleweaver/internal/recall"
)

const markerPrefix = "[Campaign: "

// The id match is lazy so ids containing "]" still resolve.
var markerPattern = regexp.MustCompile(`^\[Campaign: (.+?)\] `)

func marker(campaignID string) string {
	return markerPrefix + campaignID + "] "
}

// Tag prefixes content with the campaign marker. Content already tagged for
// the same campaign is returned unchanged.
func Tag(campaignID, content string) string {
	if IsTagged(content, campaignID) {
		return content
	}
	return marker(campaignID) + content
}

// IsTagged reports whether content carries the marker for campaignID.
func IsTagged(content, campaignID string) bool {
	return campaignID != "" && strings.HasPrefix(content, marker(campaignID))
}

// Strip removes the campaign marker. Content without it is returned as is.
func Strip(content, campaignID string) string {
	return strings.TrimPrefix(content, marker(campaignID))
}

// IsScoped reports whether content carries any campaign marker. Scoped
// content never shows up outside its own campaign.
func IsScoped(content string) bool {
	return strings.HasPrefix(content, markerPrefix)
}

// Untag removes whatever campaign marker content carries.
func Untag(content string) string {
	if id, ok := CampaignOf(content); ok {
		return Strip(content, id)
	}
	return content
}

// NewRetriever is recall.NewRetriever scoring memories without their
// campaign marker, so the marker text never counts as relevance.
func NewRetriever(store memory.Store, opts ...recall.Option) *recall.Retriever {
	return recall.NewRetriever(store, append([]recall.Option{recall.WithContentNormalizer(Untag)}, opts...)...)
}

// CampaignOf extracts the campaign id from tagged content.
func CampaignOf(content string) (string, bool) {
	m := markerPattern.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return m[1], true
}
