// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package logger provides the JSON structured logger shared by every
// tallysync component. Loggers travel inside a context.Context and are named
// after the component emitting the lines, for example "tallysync:pipeline".
package logger
