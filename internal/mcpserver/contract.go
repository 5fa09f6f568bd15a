package mcpserver

// SyncMarkersContract describes the metadata the sync engine writes
// into documents. LLM consumers must preserve these markers when
// editing synced documents.
const SyncMarkersContract = `# Laguz Sync Markers Contract

Laguz keeps a local Markdown vault and a remote record store in sync.
To do that it writes metadata into each synced document's YAML
frontmatter. Tools editing documents MUST follow these rules.

## Frontmatter markers

` + "```" + `markdown
---
title: Human-readable title
tags:
  - tag-one
remote_id: 8f2c1a...            # MANAGED – id of the linked remote record
synced_at: 2025-06-01T12:00:00Z # MANAGED – RFC 3339, last successful sync
---

Body text in standard Markdown.
` + "```" + `

## Rules

1. **Never edit or remove ` + "`" + `remote_id` + "`" + ` or ` + "`" + `synced_at` + "`" + `.** They link the
   document to its remote record; corrupting them makes the document
   inconsistent and the engine refuses to sync it until repaired.
2. **Never copy the markers into a new document.** A duplicated
   ` + "`" + `remote_id` + "`" + ` makes two documents claim the same record.
3. Documents without markers are untracked; their first sync creates a
   remote record and stamps the markers automatically.
4. Deleting a document unlinks it locally. The remote record is kept.

## Conflict markers

When both the document and its remote record changed since the last
sync, the engine reports a conflict and produces a merge body:

` + "```" + `
<<<<<<< LOCAL
local version of the text
=======
remote version of the text
>>>>>>> REMOTE
` + "```" + `

Resolve by keeping the wanted text, removing all three marker lines,
and syncing the document again.
`
