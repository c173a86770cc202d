// Package skills is the extension system: each skill is a directory holding
// a SKILL.md whose yaml frontmatter declares the v3 contract (name,
// description, input schema, permissions, entrypoint). Skills execute as
// subprocesses with JSON arguments; a few builtins (web_search,
// download_video) run in-process through the same validation and permission
// path. The registry hot-reloads the skills directories so a skill the agent
// just wrote is callable on the next turn.
package skills
