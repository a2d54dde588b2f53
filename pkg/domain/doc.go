/*
Package domain contains the core domain models for the MoneyMentor backend.

It defines the Session record and the sentinel errors shared by the cache,
the session manager and the storage adapters. This package is kept pure and
free of external dependencies like I/O or persistence, following Hexagonal
Architecture principles.

# Key Entities

  - Session: Per-conversation state (chat transcript, quiz history, progress map).
  - Message: A single chat turn (role, content, timestamp).
  - QuizRecord: An opaque quiz event, stored as a free-form map.
*/
package domain
