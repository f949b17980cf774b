// Package agreement decides whether a user must accept, or re-accept, the
// versioned terms document for their role before entering the dashboard.
//
// The agreement service supplies a [Record] (required version, last accepted
// version, decline flag); [Gate.Evaluate] turns it into a [Status] and
// [Gate.Check] turns a Status into an access [Verdict].
package agreement
