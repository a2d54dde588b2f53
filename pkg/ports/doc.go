/*
Package ports defines the driven ports (interfaces) for the session backend.

These interfaces decouple the session core from external implementations,
allowing it to work with various durable stores and coordination backends.

# Key Interfaces

  - SessionStore: Responsible for persisting and loading Session records.
  - DistributedLocker: Provides distributed locking for handling concurrent
    session access across replicas.
*/
package ports
