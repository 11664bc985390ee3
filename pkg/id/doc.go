// Package id provides the sortable 128-bit identifiers used for queue
// messages.
//
// An ID is 16 bytes big-endian: [8 bytes Unix ms][8 bytes sequence], so
// byte order is creation order. A Generator never goes backwards: when its
// clock regresses it keeps the last millisecond, and when a millisecond's
// sequence is exhausted it borrows the next millisecond.
//
//	g := id.NewGenerator(nil)
//	mid := g.Next()
//	s := mid.String() // 32 hex chars
//	back, _ := id.Parse(s)
package id
