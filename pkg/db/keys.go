package db

import "strings"

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so prefixed keys organize the different
// record types into logical namespaces. Components separate key parts with
// a NUL byte, which never appears in node names, safe names or file paths
// (those are validated before reaching the database).
//
// Data Type          Prefix   Key Format                          Value Type
// ==========================================================================
// Config entries     "cfg:"   cfg:<node>\x00<key>                 settings.Value (JSON)
// Identities         "id:"    id:<identityID>                     identity record (JSON)
// Safe index         "idx:"   idx:<safe>\x00<dir>\x00<name>       file header (JSON)
// Seen headers       "seen:"  seen:<safe>\x00<fileID>             empty
// Journal            "wal:"   wal:<safe>\x00<fileID>              journal record (JSON)
// Collection queue   "gc:"    gc:<safe>\x00<fileID>               pending deletion (JSON)
// Known safes        "safe:"  safe:<safe>                         safe location (JSON)
//
// Ranges
//
// All records of one safe share the prefix "<ns>:<safe>\x00", so a prefix
// scan lists a safe's index, journal or queue without touching other safes.
// Index keys sort by directory and then by name, so a directory listing is
// an ordered range scan.

const sep = "\x00"

const (
	PrefixConfig   = "cfg:"
	PrefixIdentity = "id:"
	PrefixIndex    = "idx:"
	PrefixSeen     = "seen:"
	PrefixJournal  = "wal:"
	PrefixGC       = "gc:"
	PrefixSafe     = "safe:"
)

// Join builds a key from a namespace prefix and parts separated by NUL.
func Join(prefix string, parts ...string) []byte {
	return []byte(prefix + strings.Join(parts, sep))
}

// Scope builds the scan prefix for all keys under the given parts.
func Scope(prefix string, parts ...string) []byte {
	if len(parts) == 0 {
		return []byte(prefix)
	}
	return []byte(prefix + strings.Join(parts, sep) + sep)
}

// Split returns the parts of key after removing prefix.
func Split(prefix string, key []byte) []string {
	return strings.Split(strings.TrimPrefix(string(key), prefix), sep)
}

// ValidPart reports whether s can be used as a key part.
func ValidPart(s string) bool {
	return !strings.Contains(s, sep)
}
