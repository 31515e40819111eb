package model

import "time"

// Session is a scheduled screening of a movie in a room.  Its seats are
// created in bulk together with the session and are never deleted while
// the session exists.
//
// Fields:
//  ID         – primary key identifier (UUID).
//  MovieTitle – title shown to customers.
//  Room       – room (hall) name where the screening happens.
//  StartsAt   – screening start time in UTC.
//  PriceCents – ticket price for every seat in the session.
//  CreatedAt  – creation timestamp.
type Session struct {
    ID         string    // sessions.id
    MovieTitle string    // sessions.movie_title
    Room       string    // sessions.room
    StartsAt   time.Time // sessions.starts_at
    PriceCents uint32    // sessions.price_cents
    CreatedAt  time.Time // sessions.created_at
}
