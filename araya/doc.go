// Package araya implements the ARAYA community bot: a Discord gateway
// frontend over an XP-based trust ladder, plus an optional embedded HTTP
// API for the conversational "brain".
//
// Members earn XP through engagement and moderator awards. Every XP
// change goes through the append-only award ledger, and a member's level
// is always recomputed from the level table so the stored level and XP
// can't drift apart. Messages addressed to the bot (a mention, or the
// word "araya") are relayed to the conversational API with recent
// channel context; if the API is unreachable the bot degrades to canned
// responses rather than erroring at the user.
package araya
