/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

// Envelope is the uniform response body of every HTTP endpoint
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// TradeCreated is returned when a trade is opened against an offer
type TradeCreated struct {
	TradeId string `json:"trade_id"`
	Trade   *Trade `json:"trade"`
}

// ChannelEvent is one frame pushed on a trade's real-time channel
type ChannelEvent struct {
	Channel string   `json:"channel"`
	Event   string   `json:"event"`
	Members []string `json:"members,omitempty"`
	Member  string   `json:"member,omitempty"`
	Message *Message `json:"message,omitempty"`
	Trade   *Trade   `json:"trade,omitempty"`
}

// Channel event names
const (
	EventHere    = "here"
	EventJoining = "joining"
	EventLeaving = "leaving"
	EventMessage = "message"
	EventStatus  = "status"
)
