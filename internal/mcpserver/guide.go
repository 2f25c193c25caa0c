package mcpserver

// PairingGuide describes the pairing workflow for LLM consumers of the tools.
const PairingGuide = `# Duet Pairing Guide

Duet connects exactly two people into a pair. Every principal belongs to at most
one active pair at a time.

## Workflow

1. ` + "`create_invite`" + ` with the partner's email. The partner must already have an
   account. Only one pending invite may exist between two people, in either direction.
2. The partner calls ` + "`accept_invite`" + ` (or ` + "`decline_invite`" + `) with the invite ID from
   ` + "`list_invites`" + ` (direction ` + "`in`" + `).
3. After acceptance both profiles point at the pair. ` + "`pair_status`" + ` shows it.

## Reports

Notes written while paired are summarized once per reporting window. The window
closes every Friday at 18:00 unless an override window is configured.
` + "`report_schedule`" + ` tells whether the current window is due; ` + "`generate_report`" + `
produces its report. Only one report is ever generated per pair and window, so a
"skipped" outcome means someone else already did it.

## Errors

Tool errors start with a stable code such as ` + "`not_in_pair`" + `, ` + "`duplicate_invite`" + `,
` + "`already_processed`" + ` or ` + "`not_due_yet`" + `.
`
