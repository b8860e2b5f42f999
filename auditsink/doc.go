// Package auditsink holds audit sinks that depend on external systems:
// LoggerSink writes events to zap and KafkaSink publishes them to a Kafka
// topic through a sarama async producer.
package auditsink
