/*
Copyright 2024 SatsQueue Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/satsqueue/satsqueue"
	model2 "github.com/satsqueue/satsqueue/api/model"
)

// CreateBoost issues an invoice for the entry and waits for its payment in the
// background. The response carries the payment request to show the payer.
func (a Api) CreateBoost(c *gin.Context) {
	var boost model2.CreateBoost
	if err := c.ShouldBindJSON(&boost); err != nil {
		badRequest(c, err)
		return
	}
	if err := boost.ValidateCreateBoost(); err != nil {
		badRequest(c, err)
		return
	}

	attempt, err := a.satsqueue.StartBoost(c.Request.Context(), satsqueue.BoostRequest{
		QueueName:    c.Param("name"),
		EntryID:      c.Param("id"),
		Amount:       boost.Amount,
		PayerEntryID: boost.PayerEntryID,
		SessionID:    boost.SessionID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, satsqueue.BoostState{Attempt: attempt, Status: satsqueue.BoostPending})
}

func (a Api) GetBoost(c *gin.Context) {
	state, ok := a.satsqueue.GetBoost(c.Param("id"))
	if !ok {
		respondError(c, satsqueue.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, state)
}

func (a Api) CancelBoost(c *gin.Context) {
	id := c.Param("id")
	if !a.satsqueue.CancelBoost(id) {
		if _, ok := a.satsqueue.GetBoost(id); !ok {
			respondError(c, satsqueue.ErrNotFound)
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": "boost is no longer pending"})
		return
	}

	state, _ := a.satsqueue.GetBoost(id)
	c.JSON(http.StatusOK, state)
}
