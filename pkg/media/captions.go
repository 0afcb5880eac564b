// Package media resolves opaque source file handles to local byte paths
// (C5, the materializer) and builds the publish-ready caption from a
// ContentItem's source text/caption (used by the orchestrator, C9 step 3).
package media

import (
	"strings"

	"github.com/tg2tok/clipbridge/pkg/logger"
)

// BuildCaption fills in the caption template when the source post carried
// no caption of its own, appends configured hashtags, and truncates to
// maxLength with trailing whitespace stripped.
func BuildCaption(sourceCaption, sourceText, template, hashtags string, maxLength int) string {
	caption := strings.TrimSpace(sourceCaption)
	if caption == "" {
		caption = strings.ReplaceAll(template, "{text}", strings.TrimSpace(sourceText))
	}

	hashtags = strings.TrimSpace(hashtags)
	if hashtags != "" {
		if caption != "" {
			caption = caption + "\n\n" + hashtags
		} else {
			caption = hashtags
		}
	}

	if maxLength > 0 && len(caption) > maxLength {
		logger.WarnCF("media", "caption truncated", map[string]any{"max_length": maxLength})
		caption = strings.TrimRight(caption[:maxLength], " \t\n\r")
	}
	return caption
}
