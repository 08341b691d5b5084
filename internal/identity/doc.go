// Package identity derives the stable bot identifier from the
// (username, package, server) triple.
//
// The identifier is a pure function of its inputs: no filesystem access, no
// package lookups, no clock. Tooling calls it before a bot exists to predict
// the identifier; the engine calls it again at load time and the two must
// agree.
//
// Format:
//
//	<package base name>_<server tag>_<username>
//
// where the server tag is the server address with the scheme, a leading
// "www." and any trailing slashes removed, lowercased. All components are
// NFC-normalized so that visually identical usernames map to the same bot.
package identity
