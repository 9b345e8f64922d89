// Package consumer supervises the console's broker subscriptions.
//
// Each Supervisor owns one consume loop over a topic subscription. The loop
// never gives up: any fetch fault tears down the current reader, waits a
// fixed backoff, and builds a fresh one from the factory. Handler failures
// and panics are contained per message - they are counted and logged, and
// the offending message is committed so the subscription keeps moving.
package consumer
