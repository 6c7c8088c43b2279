// Package repositories holds the per-entity data access layer. Every
// repository speaks dialect-neutral SQL with ? placeholders and is given the
// target site explicitly by its caller; routing decisions never happen here.
package repositories
