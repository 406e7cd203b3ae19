// Package feed turns external input into queue submissions: lines read from
// a stream, and jobs fired by a cron schedule.
package feed

// Submit hands one command to the queue. source names where it came from
// ("stdin" or a job name).
type Submit func(source, command string) error
