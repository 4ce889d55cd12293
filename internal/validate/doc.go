// Package validate implements the acceptance checks applied to every input
// before it joins a batch.
//
// Validate is cheap and ordered: declared type, size, name length, then
// blocked name fragments, stopping at the first failure. CheckIntegrity is
// the optional deeper check that reads image dimensions; callers decide
// when to run it.
package validate
