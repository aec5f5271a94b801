package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.English

	message.SetString(lang, "notification.generic.title", defaultGenericTitle)
	message.SetString(lang, "notification.generic.body", defaultGenericBody)
	message.SetString(lang, "notification.target.unnamed", defaultTargetName)
	message.SetString(lang, "notification.review_received.title", "New review")
	message.SetString(lang, "notification.review_received.body", "Someone reviewed %s: %s")
	message.SetString(lang, "notification.rating_received.title", "New rating")
	message.SetString(lang, "notification.rating_received.body", "%s received a %s-star rating.")
	message.SetString(lang, "notification.milestone_reached.title", "Milestone reached")
	message.SetString(lang, "notification.milestone_reached.body", "%s passed %s downloads.")
}
