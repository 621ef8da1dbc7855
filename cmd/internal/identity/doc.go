// Package identity manages user accounts: registration, credential
// verification, and the public profile fields other domains join against.
package identity
