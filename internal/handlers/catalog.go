package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/zypocare/core-backend/internal/principal"
	"github.com/zypocare/core-backend/internal/services"
)

type CatalogHandler struct {
	catalogService services.CatalogService
}

func NewCatalogHandler(catalogService services.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalogService: catalogService}
}

func (ch *CatalogHandler) Create(c *gin.Context) {
	var in services.CreateDefinitionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		RespondBadRequest(c, "invalid request body")
		return
	}
	p := principal.FromContext(c.Request.Context())
	def, err := ch.catalogService.CreateDefinition(c.Request.Context(), p, in)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, def)
}

func (ch *CatalogHandler) Get(c *gin.Context) {
	def, err := ch.catalogService.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, def)
}

func (ch *CatalogHandler) List(c *gin.Context) {
	defs, err := ch.catalogService.List(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"definitions": defs})
}
