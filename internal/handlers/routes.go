package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the conversation and message endpoints.
func RegisterRoutes(router gin.IRouter, conversations *ConversationHandler, msgs *MessageHandler) {
	router.GET("/conversations", conversations.List)
	router.POST("/conversations/direct", conversations.CreateDirect)
	router.POST("/conversations/group", conversations.CreateGroup)
	router.POST("/conversations/:conversation_id/read", conversations.MarkRead)

	router.GET("/conversations/:conversation_id/messages", msgs.List)
	router.POST("/conversations/:conversation_id/messages", msgs.Send)
	router.POST("/conversations/:conversation_id/messages/:message_id/retry", msgs.Retry)
	router.DELETE("/conversations/:conversation_id/stream", msgs.Close)
}
