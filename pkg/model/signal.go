package model

// SighSignal is the reserved inbound message sent when the user presses
// the long-sigh button instead of typing. Triage classifies it locally
// without an external call; the persona prompt tells the model how to
// receive it.
const SighSignal = "[SIGH_SIGNAL]"
