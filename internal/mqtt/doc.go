// Package mqtt mirrors Nexus activity onto an MQTT broker. Every tool
// invocation record and every bus event is published as JSON under
// nexus/<device>/..., so dashboards and home-automation systems can
// watch the loop without polling the HTTP API.
//
// Connection management uses Eclipse Paho v2's [autopaho] package with
// automatic reconnection. A retained "online" birth message is
// published to the availability topic on every (re-)connect, and a will
// message flips it to "offline" on unexpected disconnects.
package mqtt
