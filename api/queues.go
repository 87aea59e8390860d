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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/satsqueue/satsqueue"
	model2 "github.com/satsqueue/satsqueue/api/model"
)

func (a Api) CreateQueue(c *gin.Context) {
	var newQueue model2.CreateQueue
	if err := c.ShouldBindJSON(&newQueue); err != nil {
		badRequest(c, err)
		return
	}
	if err := newQueue.ValidateCreateQueue(); err != nil {
		badRequest(c, err)
		return
	}

	rec, err := a.satsqueue.CreateQueue(c.Request.Context(), newQueue.Name, newQueue.PayoutTarget)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, satsqueue.BuildView(rec))
}

func (a Api) GetQueue(c *gin.Context) {
	view, err := a.satsqueue.GetQueueView(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (a Api) UpdateQueue(c *gin.Context) {
	var update model2.UpdateQueue
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, err)
		return
	}
	if err := update.ValidateUpdateQueue(); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	name := c.Param("name")
	if err := a.satsqueue.SetQueueActive(ctx, name, *update.Active); err != nil {
		respondError(c, err)
		return
	}

	view, err := a.satsqueue.GetQueueView(ctx, name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a Api) JoinQueue(c *gin.Context) {
	var join model2.JoinQueue
	if err := c.ShouldBindJSON(&join); err != nil {
		badRequest(c, err)
		return
	}
	if err := join.ValidateJoinQueue(); err != nil {
		badRequest(c, err)
		return
	}

	a.admit(c, join, 0)
}

// AdmitEntry is the operator's admission route; only it may set an initial score.
func (a Api) AdmitEntry(c *gin.Context) {
	var admit model2.AdmitEntry
	if err := c.ShouldBindJSON(&admit); err != nil {
		badRequest(c, err)
		return
	}
	if err := admit.ValidateAdmitEntry(); err != nil {
		badRequest(c, err)
		return
	}

	a.admit(c, admit.JoinQueue, admit.InitialScore)
}

func (a Api) admit(c *gin.Context, join model2.JoinQueue, initialScore int64) {
	var (
		id  string
		err error
	)
	ctx := c.Request.Context()
	if join.Identifier != "" {
		id, err = a.satsqueue.JoinWithIdentity(ctx, c.Param("name"), join.Identifier, initialScore, join.Annotation)
	} else {
		id, err = a.satsqueue.Join(ctx, satsqueue.JoinRequest{
			QueueName:    c.Param("name"),
			DisplayName:  join.DisplayName,
			ContactRef:   join.ContactRef,
			InitialScore: initialScore,
			Annotation:   join.Annotation,
		})
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model2.JoinResponse{ID: id})
}

func (a Api) CallNext(c *gin.Context) {
	served, err := a.satsqueue.CallNext(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, served)
}

func (a Api) CallEntry(c *gin.Context) {
	served, err := a.satsqueue.CallEntry(c.Request.Context(), c.Param("name"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, served)
}

func (a Api) GetHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}

	ctx := c.Request.Context()
	entries, err := a.satsqueue.ServedHistory(ctx, c.Param("name"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	total, err := a.satsqueue.ServedCount(ctx, c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model2.HistoryResponse{Queue: c.Param("name"), Limit: limit, Offset: offset, Total: total, Entries: entries})
}

func (a Api) GetTaskBacklog(c *gin.Context) {
	backlog, err := a.satsqueue.TaskBacklog()
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"pending": backlog})
}
