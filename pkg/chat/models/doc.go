// Package models contains the provider neutral data structures shared by
// every part of ergon. Adapters translate these to and from wire formats,
// the tool registry publishes descriptors in these terms and the
// conversation orchestrator keeps its transcript as a slice of Message.
//
// The main entry points are:
//
//   - Message:          a single transcript entry with ordered content blocks,
//     optional tool call requests and, for role tool, the id of the call it
//     answers.
//   - ContentBlock:     closed union of Text, ImageRef, ToolUse and
//     ToolResult. RenderText gives every variant a textual projection.
//   - ToolCallRequest:  a tool invocation asked for by the model, named with
//     a namespaced tool name (see NamespacedName).
//   - ToolDescriptor:   a tool as advertised to the model.
//   - ModelDescriptor:  a model as listed by one provider.
//   - CompletionRequest, CompletionResponse: the neutral completion contract.
//   - McpServer:        the definition of one external tool server.
package models
