package pubsched

import "embed"

// EmbeddedTemplates contains the templates shipped with the binary:
// post.html (page skeleton), the newsletter and welcome emails.
//
//go:embed templates/*
var EmbeddedTemplates embed.FS
