// Package model defines the data types shared by the tracking pipeline:
// captured location records, upload queue items and their status machine,
// service health, and proximity alerts.
//
// Types here carry no I/O. Persistence lives in package store and the
// transition rules for queue items are pure functions on QueueItem so they
// can be checked without a database.
package model
