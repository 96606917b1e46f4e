// Package archive выгружает результаты успешного run в S3-совместимое хранилище (MinIO).
//
// Ключ объекта: <workload>/<run-id>/<file>. Выгружаются трасса dynamic_trace.gz
// и labelmap, если он есть.
package archive
