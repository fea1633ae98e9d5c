package http

import "github.com/gin-gonic/gin"

// Envelope de error consistente: {success:false, message, code?}. El
// detalle interno sólo se incluye fuera de producción.
func errorBody(message, code string, err error, production bool) gin.H {
	body := gin.H{
		"success": false,
		"message": message,
	}
	if code != "" {
		body["code"] = code
	}
	if err != nil && !production {
		body["error"] = err.Error()
	}
	return body
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, errorBody(message, "", nil, true))
}

func respondErrorCode(c *gin.Context, status int, message, code string) {
	c.JSON(status, errorBody(message, code, nil, true))
}
