// Package chat implements the messaging domain as named queries and
// mutations on the engine: users, conversations, messages, search,
// reactions, presence, typing, read cursors and pins.
//
// Handlers are pure functions of (transaction, caller, arguments). They
// never see transport or subscription state; every read they make goes
// through the store transaction so the engine can track it.
//
// Timestamps come from the transaction (tx.Now), which the store keeps
// strictly increasing across write transactions. Message order is index
// order, i.e. creation order.
package chat
