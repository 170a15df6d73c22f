// Package infra holds the adapters behind the core ports: the RabbitMQ
// substrate, collaborator HTTP clients, the routing provider, caches,
// driver claims, the activity log, courier MQTT and metric sinks.
// Subpackages import core, never the other way round.
package infra
