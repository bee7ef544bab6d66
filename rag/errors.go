package rag

import "errors"

var errContextInRewrite = errors.New("rag: rewrite directive cannot reference {{." + ContextKey + "}}")
