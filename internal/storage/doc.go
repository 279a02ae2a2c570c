package storage

// Package storage provides a minimal persistence layer used by the bot.
//
// It currently supports:
//   - Delivery history appends (announcements handed to the transport)
//   - Recent-delivery queries for the owner commands
