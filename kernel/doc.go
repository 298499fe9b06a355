// Package kernel contains the libav-backed components of the loop: the
// Reader and the Demuxer the branches are made of, the SpliceRetimer which
// keeps the timestamps continuous across passes, and the Finisher (a
// BitstreamFilter and an Output) which writes the result.
package kernel
