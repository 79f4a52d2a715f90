// Package node implements the embedded homesync nodes: the door access
// client, the light controller and the environment sensor.
//
// Each node is one logical thread of control. Hardware is reached through
// small interfaces (Lock, Display, TokenReader, EnvSensor, LightOutputs) so
// that a node can run against UART peripherals via go.bug.st/serial, or
// headless with the Log* implementations.
//
// The DoorNode is a state machine driven by a single event loop:
//
//	Idle         ready for a token
//	RequestSent  request published, waiting up to response_timeout (5s)
//	Actuating    unlocked for dwell (3s), then locked again
//	Denied       denial shown for denied_hold (1.5s)
//
// A token presented outside Idle is ignored. Every request carries a new
// request_token; a response with any other token is discarded, so a late
// answer to a superseded request can never unlock the door. No answer in
// time is a denial.
package node
