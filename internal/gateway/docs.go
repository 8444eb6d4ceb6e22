package gateway

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/swaggo/swag"
)

//go:embed openapi.json
var openAPIDocument []byte

type apiDoc struct{}

func (apiDoc) ReadDoc() string { return string(openAPIDocument) }

func init() {
	swag.Register(swag.Name, apiDoc{})
}

// registerDocs serves the API description and a Swagger UI for it.
func registerDocs(router *gin.Engine) {
	router.GET("/openapi.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", openAPIDocument)
	})
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}
