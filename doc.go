// Package encodeidmap maps arbitrary user-supplied input identifiers to
// dense 64-bit internal node ids, the way a bulk graph importer resolves
// external references like "u-42" to compact ids before the store is
// built.
//
// The lifecycle is: construct a Mapper with an Encoder, Put every
// (inputID, internalID, group) triple once, call Prepare, then Get as
// many times as needed. Put and Prepare are single-threaded from the
// caller's perspective (though Prepare parallelizes its own work
// internally); Get is safe for any number of concurrent callers once
// Prepare has returned.
package encodeidmap
