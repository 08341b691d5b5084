// Package pkgloader discovers automation packages on disk.
//
// A package is a directory holding a servers.lua file that assigns a
// list of server URLs to the global "servers". An optional base.lua
// defines login(username, password, server). Every other *.lua or
// *.lua.gz file is a module named after its stem; a module file for
// "train" declares its settings in interface_train and their defaults
// in status_train, and does its work in run_train.
//
// Directories that fail any of these checks are skipped with a Warning.
package pkgloader
